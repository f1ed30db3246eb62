package mtm

import "encoding/json"

// API paths.
const (
	basePath        = "/services/mtm/v1"
	accountUsersFmt = basePath + "/accounts/%s/users"
	permissionsPath = basePath + "/permissions"
	userFmt         = basePath + "/users/%s"
)

// Endpoint labels used for metrics and logs.
const (
	EndpointAccountUsers = "accounts.users"
	EndpointPermissions  = "permissions"
	EndpointDeleteUser   = "users.delete"
)

// Listing status values.
const (
	StatusOK  = "OK"
	StatusNOK = "NOK"
)

// User is an account member.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// Permission is a workspace grant; only the holder is used.
type Permission struct {
	User struct {
		ID string `json:"id"`
	} `json:"user"`
}

// listResponse is the envelope of every MTM list endpoint.
type listResponse[T any] struct {
	Errors []json.RawMessage `json:"errors"`
	Status string            `json:"status"`
	Total  int               `json:"total"`
	Type   string            `json:"type"`
	Data   []T               `json:"data"`
}

// UsersPage is one page of an account's users.
type UsersPage struct {
	Total int
	Users []User
}

// PermissionsPage is one page of a workspace's permissions.
type PermissionsPage struct {
	Total       int
	Permissions []Permission
}
