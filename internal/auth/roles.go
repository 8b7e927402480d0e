package auth

import "github.com/safar/storefront/internal/models"

type Capability int

const (
	CapViewAnyOrder Capability = iota + 1
	CapUpdateAnyOrder
	CapClaimOrders
	CapManageCatalog
	CapManageInventory
	CapManageUsers
	CapManageSiteInfo
	CapViewAnalytics
)

func (c Capability) String() string {
	switch c {
	case CapViewAnyOrder:
		return "view_any_order"
	case CapUpdateAnyOrder:
		return "update_any_order"
	case CapClaimOrders:
		return "claim_orders"
	case CapManageCatalog:
		return "manage_catalog"
	case CapManageInventory:
		return "manage_inventory"
	case CapManageUsers:
		return "manage_users"
	case CapManageSiteInfo:
		return "manage_site_info"
	case CapViewAnalytics:
		return "view_analytics"
	default:
		return "unknown"
	}
}

// capabilities is the only place roles are mapped to rights. Customers act
// on their own cart and orders, which needs no capability.
var capabilities = map[models.Role][]Capability{
	models.RoleAdmin: {
		CapViewAnyOrder,
		CapUpdateAnyOrder,
		CapClaimOrders,
		CapManageCatalog,
		CapManageInventory,
		CapManageUsers,
		CapManageSiteInfo,
		CapViewAnalytics,
	},
	models.RoleCustomer: {},
}

// Identity is the authenticated caller.
type Identity struct {
	UserID int64
	Role   models.Role
}

func Can(id Identity, c Capability) bool {
	for _, granted := range capabilities[id.Role] {
		if granted == c {
			return true
		}
	}
	return false
}

func (id Identity) Can(c Capability) bool {
	return Can(id, c)
}

// AnyOwner is the owner filter that matches every user's records.
const AnyOwner int64 = 0

// OwnerFilter returns AnyOwner when id holds c and id.UserID otherwise. A
// caller without c and without a user id is ErrUnauthenticated.
func (id Identity) OwnerFilter(c Capability) (int64, error) {
	if id.Can(c) {
		return AnyOwner, nil
	}
	if id.UserID <= 0 {
		return 0, ErrUnauthenticated
	}
	return id.UserID, nil
}
