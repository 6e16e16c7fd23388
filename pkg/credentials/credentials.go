// Package credentials looks up user records by username. Records are flat
// username and password pairs; passwords are stored and compared as given.
package credentials

import (
	"context"
	"fmt"
	"strings"
)

type Credential struct {
	Username string `json:"username" yaml:"username"`
	Password string `json:"password" yaml:"password"`
}

// Store returns every record stored under a username. Usernames are not
// unique, so a lookup may return several records.
type Store interface {
	FindByUsername(ctx context.Context, username string) ([]Credential, error)
}

// ParseFlags parses credentials of the form name=password.
func ParseFlags(flags []string) ([]Credential, error) {
	var creds []Credential
	for _, flag := range flags {
		values := strings.SplitN(flag, "=", 2)
		if len(values) != 2 || len(values[0]) == 0 {
			return nil, fmt.Errorf("--user must be of the form name=password: %s", values[0])
		}
		creds = append(creds, Credential{Username: values[0], Password: values[1]})
	}
	return creds, nil
}
