package credentials

import (
	"encoding/json"
	"fmt"
	"os"
)

// Credentials is one venue's API key material.
type Credentials struct {
	VenueID    string `json:"ccxt_id"`
	Owner      string `json:"owner,omitempty"`
	APIKey     string `json:"api_key"`
	APISecret  string `json:"api_secret"`
	Passphrase string `json:"passphrase,omitempty"`
	APIURL     string `json:"api_url,omitempty"`
}

type credentialFile struct {
	Exchanges []Credentials `json:"exchanges"`
}

// Store holds the credentials loaded from a credential file and resolves
// them by (venue id, owner).
type Store struct {
	entries []Credentials
}

// Load reads a plaintext credential file.
func Load(path string) (*Store, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("credentials: read %s: %w", path, err)
	}
	return Parse(data)
}

// LoadEncrypted reads an encrypted credential file, decrypting it with the
// given passphrase.
func LoadEncrypted(path, passphrase string) (*Store, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("credentials: read %s: %w", path, err)
	}
	plaintext, err := Decrypt(data, passphrase)
	if err != nil {
		return nil, err
	}
	return Parse(plaintext)
}

// Parse decodes the credential JSON document.
func Parse(data []byte) (*Store, error) {
	var file credentialFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("credentials: parse: %w", err)
	}
	for i, c := range file.Exchanges {
		if c.VenueID == "" || c.APIKey == "" || c.APISecret == "" {
			return nil, fmt.Errorf("credentials: entry %d is missing required fields", i)
		}
	}
	return &Store{entries: file.Exchanges}, nil
}

// ForVenue returns the credentials for a venue, regardless of owner. ok is
// false if the venue has no entry.
func (s *Store) ForVenue(venueID string) (Credentials, bool) {
	return s.Lookup(venueID, "")
}

// Lookup resolves credentials by venue id and, when owner is non-empty, by
// owner as well.
func (s *Store) Lookup(venueID, owner string) (Credentials, bool) {
	for _, c := range s.entries {
		if c.VenueID != venueID {
			continue
		}
		if owner == "" || c.Owner == owner {
			return c, true
		}
	}
	return Credentials{}, false
}
