package rooms

import (
	"path/filepath"
	"testing"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager(filepath.Join(t.TempDir(), "rooms.json"), "nanobot")
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func TestGeneralRoomAlwaysExists(t *testing.T) {
	m := newTestManager(t)
	r, ok := m.Get(GeneralRoom)
	if !ok {
		t.Fatal("general room missing")
	}
	if !r.HasParticipant("nanobot") {
		t.Fatal("leader not in general room")
	}
}

func TestLastParticipantNotRemovable(t *testing.T) {
	m := newTestManager(t)
	if err := m.RemoveParticipant(GeneralRoom, "nanobot"); err == nil {
		t.Fatal("removed the last participant")
	}

	if err := m.AddParticipant(GeneralRoom, "coder"); err != nil {
		t.Fatal(err)
	}
	if err := m.RemoveParticipant(GeneralRoom, "nanobot"); err != nil {
		t.Fatalf("removal with 2 participants failed: %v", err)
	}
	if err := m.RemoveParticipant(GeneralRoom, "coder"); err == nil {
		t.Fatal("removed the last participant after shrink")
	}
}

func TestCreateRoomIncludesLeader(t *testing.T) {
	m := newTestManager(t)
	r, err := m.Create("proj-x", TypeProject, "user1", []string{"coder", "coder"})
	if err != nil {
		t.Fatal(err)
	}
	if !r.HasParticipant("nanobot") || !r.HasParticipant("coder") {
		t.Fatalf("participants %v", r.Participants)
	}
	if len(r.Participants) != 2 {
		t.Fatalf("duplicates not removed: %v", r.Participants)
	}
	if _, err := m.Create("proj-x", TypeProject, "user1", nil); err == nil {
		t.Fatal("duplicate room created")
	}
}

func TestManagerPersistsAcrossReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rooms.json")
	m1, err := NewManager(path, "nanobot")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := m1.Create("proj-y", TypeProject, "user1", []string{"writer"}); err != nil {
		t.Fatal(err)
	}

	m2, err := NewManager(path, "nanobot")
	if err != nil {
		t.Fatal(err)
	}
	r, ok := m2.Get("proj-y")
	if !ok || !r.HasParticipant("writer") {
		t.Fatalf("room not reloaded: %+v", r)
	}
}

func TestDispatchRules(t *testing.T) {
	m := newTestManager(t)
	m.AddParticipant(GeneralRoom, "coder")
	m.AddParticipant(GeneralRoom, "writer")

	tests := []struct {
		name        string
		content     string
		isDM        bool
		dmTarget    string
		wantTarget  string
		wantPrimary string
		wantSecond  int
	}{
		{"dm wins", "@coder help", true, "writer", TargetDM, "writer", 0},
		{"at-all fans out", "@all status update", false, "", TargetLeaderFirst, "nanobot", 2},
		{"direct mention", "@coder fix the build", false, "", TargetDirectBot, "coder", 0},
		{"mention of outsider falls through", "@stranger hello", false, "", TargetLeaderFirst, "nanobot", 2},
		{"no mention goes leader first", "what is the plan", false, "", TargetLeaderFirst, "nanobot", 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := m.Dispatch(tt.content, GeneralRoom, tt.isDM, tt.dmTarget)
			if d.Target != tt.wantTarget || d.PrimaryBot != tt.wantPrimary {
				t.Errorf("got target=%s primary=%s, want %s/%s", d.Target, d.PrimaryBot, tt.wantTarget, tt.wantPrimary)
			}
			if len(d.SecondaryBots) != tt.wantSecond {
				t.Errorf("secondaries %v, want %d", d.SecondaryBots, tt.wantSecond)
			}
		})
	}
}

func TestShouldLeaderCreateRoom(t *testing.T) {
	tests := []struct {
		content  string
		want     bool
		wantType string
	}{
		{"let's start a new project to refactor the api", true, "coding"},
		{"create a project researching rust frameworks", true, "research"},
		{"kick off a project for the launch blog post", true, "writing"},
		{"what time is it", false, ""},
		{"the project went well last week", false, ""},
	}
	for _, tt := range tests {
		got, name, ptype := ShouldLeaderCreateRoom(tt.content)
		if got != tt.want {
			t.Errorf("ShouldLeaderCreateRoom(%q) = %v, want %v", tt.content, got, tt.want)
			continue
		}
		if got && ptype != tt.wantType {
			t.Errorf("%q: type %s, want %s", tt.content, ptype, tt.wantType)
		}
		if got && name == "" {
			t.Errorf("%q: empty room name", tt.content)
		}
	}
}

func TestSuggestBotsForProject(t *testing.T) {
	if bots := SuggestBotsForProject("coding"); len(bots) == 0 {
		t.Error("no bots for coding")
	}
	if bots := SuggestBotsForProject("unknown"); bots != nil {
		t.Errorf("unexpected bots %v", bots)
	}
}
