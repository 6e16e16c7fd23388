package upstream

import (
	"errors"
	"fmt"
)

// User is a record of the upstream user directory.
type User struct {
	ID       int    `json:"id"`
	Name     string `json:"name"`
	Email    string `json:"email"`
	Username string `json:"username,omitempty"`
	Phone    string `json:"phone,omitempty"`
	Website  string `json:"website,omitempty"`
}

// rawUser tells a missing id apart from a zero one.
type rawUser struct {
	ID *int `json:"id"`
	User
}

// Image is the response of the random image service.
type Image struct {
	Message string `json:"message"`
	Status  string `json:"status"`
}

// ErrMalformedResponse is returned when an upstream answers 200 with a body
// that cannot be used.
var ErrMalformedResponse = errors.New("malformed upstream response")

// StatusError captures a non-200 upstream response.
type StatusError struct {
	URL        string
	StatusCode int
	Body       []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream %s returned status %d", e.URL, e.StatusCode)
}
