package filesync

import (
	"path/filepath"

	"github.com/mschirtzinger/acctsync/internal/account"
)

// Default file names.
const (
	DefaultPrimary    = "accounts.txt"
	DefaultLinkReady  = "sheerIDlink.txt"
	DefaultVerified   = "已验证未绑卡.txt"
	DefaultSubscribed = "已绑卡号.txt"
	DefaultIneligible = "无资格号.txt"
	DefaultError      = "超时或其他错误.txt"
	DefaultBackup     = "有资格待验证号.txt"
)

// StatusOrder is the order in which status files are imported and written.
var StatusOrder = []account.Status{
	account.StatusLinkReady,
	account.StatusVerified,
	account.StatusSubscribed,
	account.StatusIneligible,
	account.StatusError,
}

// Layout names the files used by import and export. Relative names are
// resolved against Dir.
type Layout struct {
	Dir        string
	Primary    string
	LinkReady  string
	Verified   string
	Subscribed string
	Ineligible string
	Error      string
	Backup     string
}

// DefaultLayout returns the standard file names rooted at dir.
func DefaultLayout(dir string) Layout {
	return Layout{
		Dir:        dir,
		Primary:    DefaultPrimary,
		LinkReady:  DefaultLinkReady,
		Verified:   DefaultVerified,
		Subscribed: DefaultSubscribed,
		Ineligible: DefaultIneligible,
		Error:      DefaultError,
		Backup:     DefaultBackup,
	}
}

// PrimaryPath returns the resolved primary source path.
func (l Layout) PrimaryPath() string {
	return l.resolve(l.Primary)
}

// BackupPath returns the resolved backup file path.
func (l Layout) BackupPath() string {
	return l.resolve(l.Backup)
}

// StatusPath returns the file for status, or "" if status has no file.
func (l Layout) StatusPath(status account.Status) string {
	var name string
	switch status {
	case account.StatusLinkReady:
		name = l.LinkReady
	case account.StatusVerified:
		name = l.Verified
	case account.StatusSubscribed:
		name = l.Subscribed
	case account.StatusIneligible:
		name = l.Ineligible
	case account.StatusError:
		name = l.Error
	default:
		return ""
	}
	return l.resolve(name)
}

// StatusPaths maps every resolved status file path to its status.
func (l Layout) StatusPaths() map[string]account.Status {
	out := make(map[string]account.Status, len(StatusOrder))
	for _, st := range StatusOrder {
		if p := l.StatusPath(st); p != "" {
			out[p] = st
		}
	}
	return out
}

func (l Layout) resolve(name string) string {
	if name == "" {
		return ""
	}
	if filepath.IsAbs(name) || l.Dir == "" {
		return name
	}
	return filepath.Join(l.Dir, name)
}
