package domain

// OrderStage is the current step of the scripted order dialogue.
type OrderStage string

const (
	StageProductSelection  OrderStage = "PRODUCT_SELECTION"
	StageQuantitySelection OrderStage = "QUANTITY_SELECTION"
	StageAddressCollection OrderStage = "ADDRESS_COLLECTION"
	StageConfirmation      OrderStage = "CONFIRMATION"
)

// OrderDraft is the in-progress, not-yet-confirmed order attached to a
// conversation. Created when order intent is detected; cleared on confirm,
// cancel, or reset. At most one draft exists per conversation.
type OrderDraft struct {
	Stage          OrderStage
	Items          []OrderItem
	CurrentProduct *Product // product awaiting a quantity
	Address        *Address
}
