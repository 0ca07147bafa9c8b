package jobs

import (
	"encoding/json"
	"fmt"
)

const (
	TypeUpdateStock  = "UPDATE_STOCK"
	TypeRestoreStock = "RESTORE_STOCK"
	TypeBatchUpdate  = "BATCH_UPDATE"
)

// InventoryJob is one of UpdateStock, RestoreStock or BatchUpdate.
type InventoryJob interface {
	Payload
	inventoryJob()
}

// UpdateStock decrements stock only while enough remains.
type UpdateStock struct {
	ProductID string
	Amount    int
}

// RestoreStock puts stock back, typically after a cancellation.
type RestoreStock struct {
	ProductID string
	Amount    int
}

// OrderItem is one line of a batch decrement.
type OrderItem struct {
	Product string `json:"product"`
	Amount  int    `json:"amount"`
}

// BatchUpdate decrements several products at once. Applied lists product ids
// already decremented by an earlier attempt of the same job.
type BatchUpdate struct {
	OrderItems []OrderItem
	Applied    []string
}

func (UpdateStock) JobType() string  { return TypeUpdateStock }
func (RestoreStock) JobType() string { return TypeRestoreStock }
func (BatchUpdate) JobType() string  { return TypeBatchUpdate }

func (UpdateStock) inventoryJob()  {}
func (RestoreStock) inventoryJob() {}
func (BatchUpdate) inventoryJob()  {}

// inventoryWire is the flat JSON shape shared by every inventory job type.
type inventoryWire struct {
	Type       string      `json:"type"`
	ProductID  string      `json:"productId,omitempty"`
	Amount     int         `json:"amount,omitempty"`
	OrderItems []OrderItem `json:"orderItems,omitempty"`
	Applied    []string    `json:"applied,omitempty"`
}

func (u UpdateStock) MarshalJSON() ([]byte, error) {
	return json.Marshal(inventoryWire{Type: TypeUpdateStock, ProductID: u.ProductID, Amount: u.Amount})
}

func (r RestoreStock) MarshalJSON() ([]byte, error) {
	return json.Marshal(inventoryWire{Type: TypeRestoreStock, ProductID: r.ProductID, Amount: r.Amount})
}

func (b BatchUpdate) MarshalJSON() ([]byte, error) {
	return json.Marshal(inventoryWire{Type: TypeBatchUpdate, OrderItems: b.OrderItems, Applied: b.Applied})
}

// DecodeInventory parses an inventory payload into its concrete variant.
func DecodeInventory(raw json.RawMessage) (InventoryJob, error) {
	var w inventoryWire
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	switch w.Type {
	case TypeUpdateStock, TypeRestoreStock:
		if w.ProductID == "" || w.Amount <= 0 {
			return nil, fmt.Errorf("%w: %s needs productId and a positive amount", ErrInvalidPayload, w.Type)
		}
		if w.Type == TypeUpdateStock {
			return UpdateStock{ProductID: w.ProductID, Amount: w.Amount}, nil
		}
		return RestoreStock{ProductID: w.ProductID, Amount: w.Amount}, nil
	case TypeBatchUpdate:
		if len(w.OrderItems) == 0 {
			return nil, fmt.Errorf("%w: BATCH_UPDATE needs orderItems", ErrInvalidPayload)
		}
		for _, item := range w.OrderItems {
			if item.Product == "" || item.Amount <= 0 {
				return nil, fmt.Errorf("%w: invalid batch item %+v", ErrInvalidPayload, item)
			}
		}
		return BatchUpdate{OrderItems: w.OrderItems, Applied: w.Applied}, nil
	default:
		return nil, fmt.Errorf("%w: unknown inventory job type %q", ErrInvalidPayload, w.Type)
	}
}
