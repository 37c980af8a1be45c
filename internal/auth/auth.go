package auth

import (
	"bytes"
	"context"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// SingleAdmin authorizes exactly one account.
type SingleAdmin struct {
	admin common.Address
}

func NewSingleAdmin(admin common.Address) SingleAdmin {
	return SingleAdmin{admin: admin}
}

func (a SingleAdmin) IsAuthorizedAdmin(_ context.Context, caller common.Address) bool {
	return a.admin != (common.Address{}) && caller == a.admin
}

// RoleList authorizes a mutable set of admin accounts.
type RoleList struct {
	mu     sync.RWMutex
	admins map[common.Address]struct{}
}

func NewRoleList(admins ...common.Address) *RoleList {
	r := &RoleList{admins: make(map[common.Address]struct{}, len(admins))}
	for _, admin := range admins {
		r.admins[admin] = struct{}{}
	}
	return r
}

func (r *RoleList) Grant(admin common.Address) {
	r.mu.Lock()
	r.admins[admin] = struct{}{}
	r.mu.Unlock()
}

func (r *RoleList) Revoke(admin common.Address) {
	r.mu.Lock()
	delete(r.admins, admin)
	r.mu.Unlock()
}

func (r *RoleList) IsAuthorizedAdmin(_ context.Context, caller common.Address) bool {
	r.mu.RLock()
	_, ok := r.admins[caller]
	r.mu.RUnlock()
	return ok
}

// Admins returns the current admin set in ascending byte order.
func (r *RoleList) Admins() []common.Address {
	r.mu.RLock()
	out := make([]common.Address, 0, len(r.admins))
	for admin := range r.admins {
		out = append(out, admin)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i][:], out[j][:]) < 0 })
	return out
}
