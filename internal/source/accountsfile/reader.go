// Package accountsfile reads the primary account source.
//
// The source is a list of credentials in one of four shapes, chosen by file
// extension:
//
//	.txt          one account per line, parsed with parser.ParseLine
//	.yaml / .yml  a list of {email, password, backup_email, 2fa_secret}
//	.toml         [[accounts]] tables with the same keys
//	.xlsx         first sheet, header row naming the same columns
//
// Any other extension is read as text.
package accountsfile

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/xuri/excelize/v2"
	"gopkg.in/yaml.v3"

	"github.com/mschirtzinger/acctsync/internal/parser"
)

// Record is one entry of the primary source. Empty strings mean the source
// did not provide the field.
type Record struct {
	Email       string `yaml:"email" toml:"email"`
	Password    string `yaml:"password" toml:"password"`
	BackupEmail string `yaml:"backup_email" toml:"backup_email"`
	TwoFASecret string `yaml:"2fa_secret" toml:"2fa_secret"`
}

// ErrNoHeader is returned for spreadsheets without an email column.
var ErrNoHeader = errors.New("spreadsheet has no email column")

// Reader loads primary source files.
type Reader struct{}

// ReadAccounts reads every record in path. Records without an email are
// dropped.
func (Reader) ReadAccounts(path string) ([]Record, error) {
	var (
		recs []Record
		err  error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		recs, err = readYAML(path)
	case ".toml":
		recs, err = readTOML(path)
	case ".xlsx":
		recs, err = readXLSX(path)
	default:
		recs, err = readText(path)
	}
	if err != nil {
		return nil, err
	}

	out := recs[:0]
	for _, r := range recs {
		r.Email = strings.TrimSpace(r.Email)
		if r.Email == "" {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func readText(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	var recs []Record
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		p := parser.ParseLine(line)
		recs = append(recs, Record{
			Email:       deref(p.Email),
			Password:    deref(p.Password),
			BackupEmail: deref(p.RecoveryEmail),
			TwoFASecret: deref(p.SecretKey),
		})
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return recs, nil
}

func readYAML(path string) ([]Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	var recs []Record
	if err := yaml.Unmarshal(data, &recs); err != nil {
		// Also accept a document wrapping the list under "accounts".
		var doc struct {
			Accounts []Record `yaml:"accounts"`
		}
		if err2 := yaml.Unmarshal(data, &doc); err2 != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		recs = doc.Accounts
	}
	return trimFields(recs), nil
}

func readTOML(path string) ([]Record, error) {
	var doc struct {
		Accounts []Record `toml:"accounts"`
	}
	if _, err := toml.DecodeFile(path, &doc); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return trimFields(doc.Accounts), nil
}

func trimFields(recs []Record) []Record {
	for i := range recs {
		recs[i].Password = strings.TrimSpace(recs[i].Password)
		recs[i].BackupEmail = strings.TrimSpace(recs[i].BackupEmail)
		recs[i].TwoFASecret = strings.TrimSpace(recs[i].TwoFASecret)
	}
	return recs
}

func readXLSX(path string) ([]Record, error) {
	xl, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer func() { _ = xl.Close() }()

	rows, err := xl.GetRows(xl.GetSheetName(0))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	col := map[string]int{}
	for i, h := range rows[0] {
		col[strings.ToLower(strings.TrimSpace(h))] = i
	}
	if _, ok := col["email"]; !ok {
		return nil, fmt.Errorf("%s: %w", path, ErrNoHeader)
	}

	cell := func(row []string, name string) string {
		i, ok := col[name]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	recs := make([]Record, 0, len(rows)-1)
	for _, row := range rows[1:] {
		recs = append(recs, Record{
			Email:       cell(row, "email"),
			Password:    cell(row, "password"),
			BackupEmail: cell(row, "backup_email"),
			TwoFASecret: cell(row, "2fa_secret"),
		})
	}
	return recs, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
