package broker

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// safeRoomID makes a room id usable as a filename.
func safeRoomID(roomID string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, roomID)
}

// wal is the append-only journal plus the cursor of the last processed
// sequence. Both files belong exclusively to one broker.
type wal struct {
	path       string
	cursorPath string
	file       *os.File
}

func openWAL(dir, roomID string) (*wal, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("broker: create wal dir: %w", err)
	}
	safe := safeRoomID(roomID)
	w := &wal{
		path:       filepath.Join(dir, safe+".jsonl"),
		cursorPath: filepath.Join(dir, safe+".cursor"),
	}
	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("broker: open wal: %w", err)
	}
	w.file = f
	return w, nil
}

// append journals one entry and syncs before the enqueue returns.
func (w *wal) append(e *entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	if _, err := w.file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("broker: wal append: %w", err)
	}
	return w.file.Sync()
}

// readCursor returns 0 when the cursor file is absent or unreadable.
func (w *wal) readCursor() uint64 {
	data, err := os.ReadFile(w.cursorPath)
	if err != nil {
		return 0
	}
	n, err := strconv.ParseUint(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return 0
	}
	return n
}

func (w *wal) writeCursor(seq uint64) error {
	tmp := w.cursorPath + ".tmp"
	if err := os.WriteFile(tmp, []byte(strconv.FormatUint(seq, 10)), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, w.cursorPath)
}

// pending reads every journaled entry with seq > cursor, in seq order.
// Corrupt lines are skipped.
func (w *wal) pending(cursor uint64) ([]*entry, error) {
	f, err := os.Open(w.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("broker: open wal for replay: %w", err)
	}
	defer f.Close()

	var entries []*entry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var e entry
		if err := json.Unmarshal(line, &e); err != nil {
			continue
		}
		if e.Seq > cursor {
			entries = append(entries, &e)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("broker: scan wal: %w", err)
	}
	return entries, nil
}

// rewrite replaces the WAL with only the given entries, bounding growth
// after a replay.
func (w *wal) rewrite(entries []*entry) error {
	if err := w.file.Close(); err != nil {
		return err
	}
	tmp := w.path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	for _, e := range entries {
		data, err := json.Marshal(e)
		if err != nil {
			f.Close()
			os.Remove(tmp)
			return err
		}
		if _, err := f.Write(append(data, '\n')); err != nil {
			f.Close()
			os.Remove(tmp)
			return err
		}
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, w.path); err != nil {
		return err
	}

	appendFile, err := os.OpenFile(w.path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	w.file = appendFile
	return nil
}

func (w *wal) close() error {
	return w.file.Close()
}
