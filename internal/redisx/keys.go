package redisx

import "fmt"

// The product id sits in a hash tag so a product's counter and its reservations share a
// cluster slot, which the Lua scripts require.
const (
	// inventory:{product_id}:available -> integer
	KeyAvailable = "inventory:{%d}:available"

	// inventory:{product_id}:reservation:{reservation_id} -> reserved quantity
	KeyReservation = "inventory:{%d}:reservation:%s"
)

func availableKey(productID int64) string {
	return fmt.Sprintf(KeyAvailable, productID)
}

func reservationKey(productID int64, reservationID string) string {
	return fmt.Sprintf(KeyReservation, productID, reservationID)
}
