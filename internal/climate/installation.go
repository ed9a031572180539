package climate

import (
	"fmt"
	"slices"
	"sync"
)

// Installation payload keys.
const (
	KeyAccessType = "access_type"
	KeyWSIDs      = "ws_ids"
	KeyGroups     = "groups"
	KeyGroupID    = "group_id"
	KeyDevices    = "devices"
)

// Request scopes for installation-level commands.
const (
	RequestTypeAll  = "all"
	RequestTypeUser = "user"
)

// Installation is a customer site: a group of every device it contains,
// plus its named groups and web servers.
type Installation struct {
	*Group
	access     UserAccess
	webServers []string

	groupsMu sync.RWMutex
	groups   []*Group
}

// NewInstallation builds an Installation from an installations listing
// entry.
func NewInstallation(data map[string]any) (*Installation, error) {
	id, ok := getString(data, KeyInstallation)
	if !ok || id == "" {
		return nil, fmt.Errorf("%w: %s", ErrMissingField, KeyInstallation)
	}
	name, _ := getString(data, KeyName)
	if name == "" {
		name = "Installation"
	}
	inst := &Installation{
		Group:  NewGroup(id, name, id),
		access: AccessUnknown,
	}
	if v, ok := getString(data, KeyAccessType); ok {
		inst.access = parseUserAccess(v)
	}
	if v, ok := getStrings(data, KeyWSIDs); ok {
		inst.webServers = v
	}
	return inst, nil
}

// Access returns the account's access level.
func (i *Installation) Access() UserAccess { return i.access }

// RequestType returns the command scope allowed for the account.
func (i *Installation) RequestType() string {
	if i.access.IsAdmin() {
		return RequestTypeAll
	}
	return RequestTypeUser
}

// WebServers returns the web server ids of the installation.
func (i *Installation) WebServers() []string {
	return slices.Clone(i.webServers)
}

// AddGroup registers a named group. Adding the same id twice is a no-op.
func (i *Installation) AddGroup(g *Group) {
	i.groupsMu.Lock()
	defer i.groupsMu.Unlock()
	i.groups = addUnique(i.groups, g)
}

// Groups returns the named groups in discovery order.
func (i *Installation) Groups() []*Group {
	i.groupsMu.RLock()
	defer i.groupsMu.RUnlock()
	return slices.Clone(i.groups)
}

// Data returns a JSON-ready snapshot.
func (i *Installation) Data() map[string]any {
	data := i.summaryData()
	groups := i.Groups()
	putIDs(data, "groups", groups)
	data["num-groups"] = len(groups)
	data["user-access"] = string(i.access)
	data["web-servers"] = i.WebServers()
	return data
}
