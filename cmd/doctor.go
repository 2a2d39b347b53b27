package cmd

import (
	"bufio"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	_ "modernc.org/sqlite"

	"github.com/nextlevelbuilder/nanoroom/internal/config"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check configuration and data health",
		Run: func(cmd *cobra.Command, args []string) {
			runDoctor()
		},
	}
}

func runDoctor() {
	fmt.Println("nanoroom doctor")
	fmt.Printf("  Version:  %s\n", Version)
	fmt.Printf("  OS:       %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Printf("  Go:       %s\n", runtime.Version())
	fmt.Println()

	cfgPath := resolveConfigPath()
	fmt.Printf("  Config:   %s", cfgPath)
	if _, err := os.Stat(cfgPath); err != nil {
		fmt.Println(" (NOT FOUND, defaults in effect)")
	} else {
		fmt.Println(" (OK)")
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Printf("  Config load error: %s\n", err)
		os.Exit(1)
	}

	fmt.Println()
	fmt.Println("  Providers:")
	names := []string{"anthropic", "openai", "openrouter", "groq", "deepseek"}
	for _, name := range names {
		p, _ := cfg.Provider(name)
		checkProvider(name, p.APIKey)
	}

	fmt.Println()
	fmt.Println("  Channels:")
	checkChannel("telegram", cfg.Channels.Telegram.Enabled, cfg.Channels.Telegram.Token != "")
	checkChannel("discord", cfg.Channels.Discord.Enabled, cfg.Channels.Discord.Token != "")

	fmt.Println()
	ws := cfg.Workspace()
	fmt.Printf("  Workspace: %s", ws)
	if _, err := os.Stat(ws); err != nil {
		fmt.Println(" (NOT FOUND)")
	} else {
		fmt.Println(" (OK)")
	}

	fmt.Println()
	fmt.Println("  Memory DB:")
	checkMemoryDB(cfg.MemoryDBPath())

	fmt.Println()
	fmt.Println("  Routing patterns:")
	checkPatternsFile(cfg.PatternsPath())

	fmt.Println()
	fmt.Println("  Broker queues:")
	checkBrokerDir(cfg.BrokerDir())

	fmt.Println()
	fmt.Println("Doctor check complete.")
}

func checkProvider(name, apiKey string) {
	if apiKey == "" {
		fmt.Printf("    %-12s (not configured)\n", name+":")
		return
	}
	masked := apiKey
	if len(masked) > 8 {
		masked = masked[:4] + strings.Repeat("*", len(masked)-8) + masked[len(masked)-4:]
	}
	fmt.Printf("    %-12s %s\n", name+":", masked)
}

func checkChannel(name string, enabled, hasCredentials bool) {
	status := "disabled"
	if enabled && hasCredentials {
		status = "enabled"
	} else if enabled {
		status = "enabled (missing credentials)"
	}
	fmt.Printf("    %-12s %s\n", name+":", status)
}

func checkMemoryDB(path string) {
	if _, err := os.Stat(path); err != nil {
		fmt.Println("    (no database yet)")
		return
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		fmt.Printf("    OPEN FAILED: %s\n", err)
		return
	}
	defer db.Close()

	var result string
	if err := db.QueryRow("PRAGMA integrity_check").Scan(&result); err != nil {
		fmt.Printf("    INTEGRITY CHECK FAILED: %s\n", err)
		return
	}
	if result != "ok" {
		fmt.Printf("    CORRUPT: %s\n", result)
		return
	}
	var events, learnings int
	db.QueryRow("SELECT COUNT(*) FROM events").Scan(&events)
	db.QueryRow("SELECT COUNT(*) FROM learnings").Scan(&learnings)
	fmt.Printf("    OK (%d events, %d learnings)\n", events, learnings)
}

func checkPatternsFile(path string) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		fmt.Println("    (no patterns file yet)")
		return
	}
	if err != nil {
		fmt.Printf("    READ FAILED: %s\n", err)
		return
	}
	var doc struct {
		Patterns []map[string]interface{} `json:"patterns"`
		Version  string                   `json:"version"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		fmt.Printf("    INVALID JSON: %s\n", err)
		return
	}
	if doc.Version == "" {
		fmt.Println("    MISSING VERSION (not a patterns document?)")
		return
	}
	fmt.Printf("    OK (%d patterns, format %s)\n", len(doc.Patterns), doc.Version)
}

// checkBrokerDir verifies each room WAL parses and its cursor does not
// point past the last written sequence.
func checkBrokerDir(dir string) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		fmt.Println("    (no queues yet)")
		return
	}
	if err != nil {
		fmt.Printf("    READ FAILED: %s\n", err)
		return
	}

	checked := 0
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".jsonl") {
			continue
		}
		checked++
		room := strings.TrimSuffix(e.Name(), ".jsonl")
		walPath := filepath.Join(dir, e.Name())
		cursorPath := filepath.Join(dir, room+".cursor")

		maxSeq, corrupt := scanWAL(walPath)
		cursor := readCursorFile(cursorPath)

		switch {
		case corrupt > 0:
			fmt.Printf("    %-16s %d corrupt WAL lines (will be skipped on replay)\n", room+":", corrupt)
		case cursor > maxSeq && maxSeq > 0:
			fmt.Printf("    %-16s cursor %d past last seq %d\n", room+":", cursor, maxSeq)
		default:
			fmt.Printf("    %-16s OK (cursor %d, last seq %d)\n", room+":", cursor, maxSeq)
		}
	}
	if checked == 0 {
		fmt.Println("    (no queues yet)")
	}
}

func scanWAL(path string) (maxSeq uint64, corrupt int) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var rec struct {
			Seq uint64 `json:"seq"`
		}
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			corrupt++
			continue
		}
		if rec.Seq > maxSeq {
			maxSeq = rec.Seq
		}
	}
	return maxSeq, corrupt
}

func readCursorFile(path string) uint64 {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0
	}
	n, err := strconv.ParseUint(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return 0
	}
	return n
}
