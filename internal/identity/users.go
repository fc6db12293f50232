// Package identity resolves credentials to users: a YAML users file with
// bcrypt password hashes, JWT session tokens and an injected session store.
package identity

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"

	"ideaflow/internal/domain"
)

// ErrInvalidCredentials is returned for any unknown username, wrong password
// or unusable token.
var ErrInvalidCredentials = errors.New("invalid username or password")

// UserRecord is one entry of the users file.
type UserRecord struct {
	ID           string      `yaml:"id"`
	Username     string      `yaml:"username"`
	PasswordHash string      `yaml:"password_hash"`
	Role         domain.Role `yaml:"role"`
	Name         string      `yaml:"name"`
	Email        string      `yaml:"email,omitempty"`
}

func (r UserRecord) User() domain.User {
	return domain.User{ID: r.ID, Username: r.Username, Role: r.Role, Name: r.Name, Email: r.Email}
}

type usersFile struct {
	Users []UserRecord `yaml:"users"`
}

// Directory is the read-only set of known users.
type Directory struct {
	mu     sync.RWMutex
	byName map[string]UserRecord
}

func NewDirectory(records []UserRecord) (*Directory, error) {
	d := &Directory{byName: make(map[string]UserRecord, len(records))}
	for i, r := range records {
		r.Username = strings.TrimSpace(r.Username)
		if r.Username == "" {
			return nil, fmt.Errorf("users[%d]: username is required", i)
		}
		if r.Role != domain.RolePO && r.Role != domain.RoleUser {
			return nil, fmt.Errorf("users[%d] %s: role must be PO or USER", i, r.Username)
		}
		if r.PasswordHash == "" {
			return nil, fmt.Errorf("users[%d] %s: password_hash is required", i, r.Username)
		}
		if _, dup := d.byName[r.Username]; dup {
			return nil, fmt.Errorf("users[%d]: duplicate username %s", i, r.Username)
		}
		if r.ID == "" {
			r.ID = r.Username
		}
		d.byName[r.Username] = r
	}
	return d, nil
}

// LoadDirectory reads a users file.
func LoadDirectory(path string) (*Directory, error) {
	records, err := ReadUsersFile(path)
	if err != nil {
		return nil, err
	}
	return NewDirectory(records)
}

// ReadUsersFile returns the raw records of a users file.
func ReadUsersFile(path string) ([]UserRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read users file: %w", err)
	}
	var f usersFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse users file %s: %w", path, err)
	}
	return f.Users, nil
}

// Lookup returns the user with username.
func (d *Directory) Lookup(username string) (domain.User, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	r, ok := d.byName[username]
	if !ok {
		return domain.User{}, false
	}
	return r.User(), true
}

// Authenticate verifies password against the stored bcrypt hash.
func (d *Directory) Authenticate(username, password string) (domain.User, error) {
	d.mu.RLock()
	r, ok := d.byName[strings.TrimSpace(username)]
	d.mu.RUnlock()
	if !ok {
		return domain.User{}, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(r.PasswordHash), []byte(password)); err != nil {
		return domain.User{}, ErrInvalidCredentials
	}
	return r.User(), nil
}

// HashPassword returns a bcrypt hash suitable for the users file.
func HashPassword(password string) (string, error) {
	return HashPasswordCost(password, bcrypt.DefaultCost)
}

func HashPasswordCost(password string, cost int) (string, error) {
	if password == "" {
		return "", errors.New("password is required")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// WriteUsersFile writes records in the users file layout.
func WriteUsersFile(path string, records []UserRecord) error {
	data, err := yaml.Marshal(usersFile{Users: records})
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
