// Package mtm maps the MTM administration endpoints used by mtm-prune:
// account user listings, workspace permission listings and user deletion.
package mtm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"

	"github.com/Sternrassler/mtm-prune/pkg/client"
	"github.com/Sternrassler/mtm-prune/pkg/pagination"
)

// ErrListingNotOK is returned when a listing envelope reports status NOK.
var ErrListingNotOK = errors.New("listing reported status NOK")

// API is the subset of client.Client used here.
type API interface {
	GetJSON(ctx context.Context, endpoint, path string, query url.Values, out any) error
	Delete(ctx context.Context, endpoint, path string) error
}

var _ API = (*client.Client)(nil)

// Client exposes typed MTM operations.
type Client struct {
	api API
}

// New wraps an API client.
func New(api API) *Client {
	return &Client{api: api}
}

// UsersPage fetches one page of an account's users, sorted by email.
func (c *Client) UsersPage(ctx context.Context, accountID string, page, size int) (UsersPage, error) {
	q := pageQuery(page, size)
	q.Set("sort", "email-asc")

	var resp listResponse[User]
	path := fmt.Sprintf(accountUsersFmt, url.PathEscape(accountID))
	if err := c.api.GetJSON(ctx, EndpointAccountUsers, path, q, &resp); err != nil {
		return UsersPage{}, err
	}
	if err := checkStatus(resp.Status, resp.Errors); err != nil {
		return UsersPage{}, fmt.Errorf("account %s users: %w", accountID, err)
	}

	return UsersPage{Total: resp.Total, Users: resp.Data}, nil
}

// PermissionsPage fetches one page of a workspace's permissions.
func (c *Client) PermissionsPage(ctx context.Context, workspaceID string, page, size int) (PermissionsPage, error) {
	q := pageQuery(page, size)
	q.Set("workspaceId", workspaceID)

	var resp listResponse[Permission]
	if err := c.api.GetJSON(ctx, EndpointPermissions, permissionsPath, q, &resp); err != nil {
		return PermissionsPage{}, err
	}
	if err := checkStatus(resp.Status, resp.Errors); err != nil {
		return PermissionsPage{}, fmt.Errorf("workspace %s permissions: %w", workspaceID, err)
	}

	return PermissionsPage{Total: resp.Total, Permissions: resp.Data}, nil
}

// DeleteUser permanently deletes a user.
func (c *Client) DeleteUser(ctx context.Context, userID string) error {
	if userID == "" {
		return fmt.Errorf("user id is required")
	}
	return c.api.Delete(ctx, EndpointDeleteUser, fmt.Sprintf(userFmt, url.PathEscape(userID)))
}

// AccountUserIDs lists an account's users keyed by user ID.
func (c *Client) AccountUserIDs(accountID string) pagination.PageFunc {
	return c.accountUsers(accountID, func(u User) string { return u.ID })
}

// AccountEmails lists an account's users keyed by email.
func (c *Client) AccountEmails(accountID string) pagination.PageFunc {
	return c.accountUsers(accountID, func(u User) string { return u.Email })
}

// PermittedUserIDs lists the IDs of users holding a permission on a workspace.
func (c *Client) PermittedUserIDs(workspaceID string) pagination.PageFunc {
	return func(ctx context.Context, page, size int) (pagination.Page, error) {
		p, err := c.PermissionsPage(ctx, workspaceID, page, size)
		if err != nil {
			return pagination.Page{}, err
		}
		keys := make([]string, 0, len(p.Permissions))
		for _, perm := range p.Permissions {
			keys = append(keys, perm.User.ID)
		}
		return pagination.Page{Total: p.Total, Keys: keys}, nil
	}
}

func (c *Client) accountUsers(accountID string, key func(User) string) pagination.PageFunc {
	return func(ctx context.Context, page, size int) (pagination.Page, error) {
		p, err := c.UsersPage(ctx, accountID, page, size)
		if err != nil {
			return pagination.Page{}, err
		}
		keys := make([]string, 0, len(p.Users))
		for _, u := range p.Users {
			keys = append(keys, key(u))
		}
		return pagination.Page{Total: p.Total, Keys: keys}, nil
	}
}

func pageQuery(page, size int) url.Values {
	return url.Values{
		"page": {strconv.Itoa(page)},
		"size": {strconv.Itoa(size)},
	}
}

// checkStatus accepts an empty status since not every listing sets it.
func checkStatus(status string, errs []json.RawMessage) error {
	if status != StatusNOK {
		return nil
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %s", ErrListingNotOK, errs[0])
	}
	return ErrListingNotOK
}
