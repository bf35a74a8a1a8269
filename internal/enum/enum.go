package enum

// ── Group A: State machines (mirrored from the backend) ──

const (
	OrderStatusPending   = "PENDING"
	OrderStatusPreparing = "PREPARING"
	OrderStatusReady     = "READY"
	OrderStatusCompleted = "COMPLETED"
	OrderStatusVoided    = "VOIDED"
)

const (
	TableStatusAvailable = "AVAILABLE"
	TableStatusOccupied  = "OCCUPIED"
	TableStatusReady     = "READY"
	TableStatusServed    = "SERVED"
)

const (
	PaymentStatusDraft     = "DRAFT"
	PaymentStatusPaid      = "PAID"
	PaymentStatusCancelled = "CANCELLED"
)

// ── Group B: Roles (JWT claim "role") ──

const (
	UserRoleOwner   = "OWNER"
	UserRoleManager = "MANAGER"
	UserRoleCashier = "CASHIER"
	UserRoleWaiter  = "WAITER"
	UserRoleKitchen = "KITCHEN"
)

// ── Group C: Configurable labels ──

const (
	OrderTypeDineIn   = "DINE_IN"
	OrderTypeTakeaway = "TAKEAWAY"
)

const (
	StationGrill    = "GRILL"
	StationBeverage = "BEVERAGE"
	StationRice     = "RICE"
	StationDessert  = "DESSERT"
)

const (
	PaymentMethodCash     = "CASH"
	PaymentMethodCard     = "CARD"
	PaymentMethodQRIS     = "QRIS"
	PaymentMethodTransfer = "TRANSFER"
	PaymentMethodOnline   = "ONLINE"
)

const (
	DiscountTypePercentage = "PERCENTAGE"
	DiscountTypeFixed      = "FIXED_AMOUNT"
)

// ── Group D: Engine-local ──

const (
	MutationCreateOrder   = "CREATE_ORDER"
	MutationUpdateStatus  = "UPDATE_STATUS"
	MutationRecordPayment = "RECORD_PAYMENT"
)

const (
	ViewBadges    = "badges"
	ViewKitchen   = "kitchen"
	ViewTables    = "tables"
	ViewDashboard = "dashboard"
)

// IsPaymentMethod reports whether s is a known payment method.
func IsPaymentMethod(s string) bool {
	switch s {
	case PaymentMethodCash, PaymentMethodCard, PaymentMethodQRIS,
		PaymentMethodTransfer, PaymentMethodOnline:
		return true
	}
	return false
}

// IsRole reports whether s is a known user role.
func IsRole(s string) bool {
	switch s {
	case UserRoleOwner, UserRoleManager, UserRoleCashier, UserRoleWaiter, UserRoleKitchen:
		return true
	}
	return false
}

// IsView reports whether s names a view the engine polls for.
func IsView(s string) bool {
	switch s {
	case ViewBadges, ViewKitchen, ViewTables, ViewDashboard:
		return true
	}
	return false
}
