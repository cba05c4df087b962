package entity

// Role is a user's function in the procurement organisation
type Role string

const (
	RoleAdmin            Role = "admin"
	RoleDirector         Role = "director"
	RoleHeadOfOperations Role = "head_of_operations"
	RolePurchase         Role = "purchase"
	RoleStore            Role = "store"
	RoleQA               Role = "qa"
	RoleEngineer         Role = "engineer"
	RoleTechnician       Role = "technician"
	RoleViewer           Role = "viewer"
)

// IsValid reports whether the role is known
func (r Role) IsValid() bool {
	_, ok := roleCapabilities[r]
	return ok
}

// Capability is a permission checked by the authorizer
type Capability string

const (
	CapManagePurchaseOrders Capability = "purchase_orders.manage"
	CapSubmitForApproval    Capability = "approvals.submit"
	CapDecideApproval       Capability = "approvals.decide"
	CapReceiveGoods         Capability = "goods.receive"
	CapInspectMaterial      Capability = "material.inspect"
	CapAllocateMaterial     Capability = "material.allocate"
	CapIssueMaterial        Capability = "material.issue"
	CapScrapMaterial        Capability = "material.scrap"
	CapManageBarcodes       Capability = "barcodes.manage"
	CapTransition           Capability = "entities.transition"
	CapViewLedger           Capability = "ledger.view"
)

var roleCapabilities = map[Role][]Capability{
	RoleAdmin: {
		CapManagePurchaseOrders, CapSubmitForApproval, CapDecideApproval, CapReceiveGoods,
		CapInspectMaterial, CapAllocateMaterial, CapIssueMaterial, CapScrapMaterial,
		CapManageBarcodes, CapTransition, CapViewLedger,
	},
	RoleDirector:         {CapDecideApproval, CapViewLedger},
	RoleHeadOfOperations: {CapDecideApproval, CapSubmitForApproval, CapAllocateMaterial, CapViewLedger},
	RolePurchase:         {CapManagePurchaseOrders, CapSubmitForApproval, CapViewLedger},
	RoleStore:            {CapReceiveGoods, CapAllocateMaterial, CapIssueMaterial, CapManageBarcodes, CapViewLedger},
	RoleQA:               {CapInspectMaterial, CapScrapMaterial, CapViewLedger},
	RoleEngineer:         {CapManageBarcodes, CapViewLedger},
	RoleTechnician:       {CapManageBarcodes},
	RoleViewer:           {CapViewLedger},
}

// Capabilities returns the capability set of the role
func (r Role) Capabilities() []Capability {
	return append([]Capability{}, roleCapabilities[r]...)
}

// Can reports whether the role holds the capability
func (r Role) Can(c Capability) bool {
	for _, held := range roleCapabilities[r] {
		if held == c {
			return true
		}
	}
	return false
}
