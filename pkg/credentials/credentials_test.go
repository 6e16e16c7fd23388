package credentials

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/efficientgo/core/testutil"
)

func TestParseFlags(t *testing.T) {
	creds, err := ParseFlags([]string{"admin=password123", "guest=a=b", "empty="})
	testutil.Ok(t, err)
	testutil.Equals(t, []Credential{
		{Username: "admin", Password: "password123"},
		{Username: "guest", Password: "a=b"},
		{Username: "empty", Password: ""},
	}, creds)

	for _, bad := range []string{"nopassword", "=password"} {
		_, err := ParseFlags([]string{bad})
		testutil.NotOk(t, err, bad)
	}
}

func TestMemoryStore(t *testing.T) {
	s := NewMemoryStore(
		Credential{Username: "admin", Password: "password123"},
		Credential{Username: "admin", Password: "other"},
		Credential{Username: "bob", Password: "hunter2"},
	)
	ctx := context.Background()

	records, err := s.FindByUsername(ctx, "admin")
	testutil.Ok(t, err)
	testutil.Equals(t, 2, len(records))

	records, err = s.FindByUsername(ctx, "Admin")
	testutil.Ok(t, err)
	testutil.Equals(t, 0, len(records))

	// returned records must not alias the store
	records, _ = s.FindByUsername(ctx, "bob")
	records[0].Password = "changed"
	records, _ = s.FindByUsername(ctx, "bob")
	testutil.Equals(t, "hunter2", records[0].Password)
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	want := []Credential{
		{Username: "admin", Password: "password123"},
		{Username: "bob", Password: "hunter2"},
	}

	for _, tc := range []struct {
		name    string
		file    string
		content string
		wantErr bool
	}{
		{
			name: "json",
			file: "users.json",
			content: `[
  {"username": "admin", "password": "password123"},
  {"username": "bob", "password": "hunter2"}
]`,
		},
		{
			name: "json with comments",
			file: "users.jsonc",
			content: `[
  // the demo administrator
  {"username": "admin", "password": "password123"},
  /* a regular user */
  {"username": "bob", "password": "hunter2",},
]`,
		},
		{
			name: "yaml",
			file: "users.yaml",
			content: `- username: admin
  password: password123
- username: bob
  password: hunter2
`,
		},
		{
			name:    "missing username",
			file:    "broken.json",
			content: `[{"password": "x"}]`,
			wantErr: true,
		},
		{
			name:    "not a list",
			file:    "object.json",
			content: `{"username": "admin"}`,
			wantErr: true,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(dir, tc.file)
			testutil.Ok(t, os.WriteFile(path, []byte(tc.content), 0o600))

			creds, err := Load(path)
			if tc.wantErr {
				testutil.NotOk(t, err)
				return
			}
			testutil.Ok(t, err)
			testutil.Equals(t, want, creds)
		})
	}

	_, err := Load(filepath.Join(dir, "does-not-exist.json"))
	testutil.NotOk(t, err)
}
