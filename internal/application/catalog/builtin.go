package catalog

import (
	"runtime"
	"strings"

	"github.com/doeshing/pcpilot/internal/domain"
)

type seed struct {
	name    string
	aliases []string
	linux   string
	darwin  string
	windows string
}

// Common desktop applications. The launch command differs per platform; an
// empty command leaves the executor to guess from the canonical name.
var seeds = []seed{
	{"Calculator", []string{"calc", "calculator"}, "gnome-calculator", "Calculator", "calc"},
	{"Calendar", []string{"calendar"}, "gnome-calendar", "Calendar", "outlookcal:"},
	{"Notepad", []string{"notepad", "text editor", "editor"}, "gedit", "TextEdit", "notepad"},
	{"Terminal", []string{"terminal", "console", "shell", "cmd", "command prompt"}, "x-terminal-emulator", "Terminal", "cmd"},
	{"PowerShell", []string{"powershell", "pwsh"}, "pwsh", "pwsh", "powershell"},
	{"Google Chrome", []string{"chrome", "google chrome", "browser"}, "google-chrome", "Google Chrome", "chrome"},
	{"Firefox", []string{"firefox", "mozilla"}, "firefox", "Firefox", "firefox"},
	{"Microsoft Edge", []string{"edge", "microsoft edge"}, "microsoft-edge", "Microsoft Edge", "msedge"},
	{"File Manager", []string{"explorer", "files", "file explorer", "finder", "file manager"}, "xdg-open .", "Finder", "explorer"},
	{"Task Manager", []string{"task manager", "system monitor", "activity monitor"}, "gnome-system-monitor", "Activity Monitor", "taskmgr"},
	{"Control Panel", []string{"control panel", "control"}, "gnome-control-center", "System Settings", "control"},
	{"Settings", []string{"settings", "preferences", "system settings"}, "gnome-control-center", "System Settings", "ms-settings:"},
	{"Visual Studio Code", []string{"vscode", "vs code", "code", "visual studio code"}, "code", "Visual Studio Code", "code"},
	{"Microsoft Word", []string{"word", "ms word"}, "libreoffice --writer", "Microsoft Word", "winword"},
	{"Microsoft Excel", []string{"excel", "spreadsheet"}, "libreoffice --calc", "Microsoft Excel", "excel"},
	{"Microsoft PowerPoint", []string{"powerpoint", "slides"}, "libreoffice --impress", "Microsoft PowerPoint", "powerpnt"},
	{"Outlook", []string{"outlook", "mail", "email"}, "thunderbird", "Microsoft Outlook", "outlook"},
	{"Microsoft Teams", []string{"teams"}, "teams", "Microsoft Teams", "ms-teams"},
	{"Discord", []string{"discord"}, "discord", "Discord", "discord"},
	{"Spotify", []string{"spotify", "music"}, "spotify", "Spotify", "spotify"},
	{"Steam", []string{"steam"}, "steam", "Steam", "steam"},
	{"VLC", []string{"vlc", "media player", "vlc player"}, "vlc", "VLC", "vlc"},
	{"Photoshop", []string{"photoshop", "ps"}, "", "Adobe Photoshop", "photoshop"},
	{"Illustrator", []string{"illustrator", "ai"}, "", "Adobe Illustrator", "illustrator"},
	{"Premiere Pro", []string{"premiere", "premiere pro"}, "", "Adobe Premiere Pro", "premiere"},
}

// BuiltinEntries returns the seed applications for the current platform.
func BuiltinEntries() []domain.TargetEntry {
	return BuiltinEntriesFor(runtime.GOOS)
}

// BuiltinEntriesFor returns the seed applications as launched on goos.
func BuiltinEntriesFor(goos string) []domain.TargetEntry {
	out := make([]domain.TargetEntry, 0, len(seeds))
	for _, s := range seeds {
		entry := domain.TargetEntry{
			CanonicalName: s.name,
			Command:       s.launch(goos),
			Kind:          domain.KindApplication,
			Source:        domain.TargetBuiltin,
		}
		entry.MergeAliases(s.aliases...)
		out = append(out, entry)
	}
	return out
}

// launch builds the argv that starts the application. macOS opens bundles by
// name and Windows hands the name to start; elsewhere the table holds a
// command line.
func (s seed) launch(goos string) []string {
	switch goos {
	case "darwin":
		return []string{"open", "-a", fallback(s.darwin, s.name)}
	case "windows":
		return []string{"cmd", "/c", "start", "", fallback(s.windows, s.name)}
	default:
		if fields := strings.Fields(s.linux); len(fields) > 0 {
			return fields
		}
		return nil
	}
}

func fallback(value, name string) string {
	if value == "" {
		return name
	}
	return value
}
