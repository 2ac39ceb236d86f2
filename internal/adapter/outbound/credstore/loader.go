package credstore

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/identitygate/identitygate/internal/domain/credential"
)

// fileEntry mirrors ClientEntry/UserEntry for JSON decoding; the on-disk
// credential table is a flat file rather than the argon2id-hashed Store
// held in memory once New has run.
type fileEntry struct {
	ID           string   `json:"id"`
	Secret       string   `json:"secret"`
	Dept         string   `json:"dept"`
	Groups       []string `json:"groups"`
	RiskScore    int      `json:"risk_score"`
	AllowedScope []string `json:"allowed_scope"`
}

type fileTable struct {
	Clients []fileEntry `json:"clients"`
	Users   []fileEntry `json:"users"`
}

// LoadFile reads a JSON credential table from path and hashes it into a
// ready Store. The file is not hot-reloaded: unlike the Policy Repository,
// credential rotation requires a restart.
func LoadFile(path string) (*Store, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("credstore: read credentials file: %w", err)
	}

	var table fileTable
	if err := json.Unmarshal(data, &table); err != nil {
		return nil, fmt.Errorf("credstore: parse credentials file: %w", err)
	}

	clients := make([]ClientEntry, 0, len(table.Clients))
	for _, c := range table.Clients {
		clients = append(clients, ClientEntry{
			ClientID:     c.ID,
			ClientSecret: c.Secret,
			Attributes:   fileEntryAttributes(c),
			AllowedScope: c.AllowedScope,
		})
	}

	users := make([]UserEntry, 0, len(table.Users))
	for _, u := range table.Users {
		users = append(users, UserEntry{
			Username:     u.ID,
			Password:     u.Secret,
			Attributes:   fileEntryAttributes(u),
			AllowedScope: u.AllowedScope,
		})
	}

	return New(clients, users)
}

func fileEntryAttributes(e fileEntry) credential.Attributes {
	return credential.Attributes{
		Subject:   e.ID,
		Dept:      e.Dept,
		Groups:    e.Groups,
		RiskScore: e.RiskScore,
	}
}
