// Copyright (c) 2013-2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mempool

import "fmt"

// NotificationType represents the type of a notification message.
type NotificationType int

// NotificationCallback is used for a caller to provide a callback for
// notifications about various pool events.
type NotificationCallback func(*Notification)

// Constants for the type of a notification message.
const (
	// NTTxAccepted indicates a transaction was committed to the pool.
	NTTxAccepted NotificationType = iota

	// NTTxRemoved indicates a transaction left the pool, either replaced
	// or removed by the caller.
	NTTxRemoved
)

// notificationTypeStrings is a map of notification types back to their constant
// names for pretty printing.
var notificationTypeStrings = map[NotificationType]string{
	NTTxAccepted: "NTTxAccepted",
	NTTxRemoved:  "NTTxRemoved",
}

// String returns the NotificationType in human-readable form.
func (n NotificationType) String() string {
	if s, ok := notificationTypeStrings[n]; ok {
		return s
	}
	return fmt.Sprintf("Unknown Notification Type (%d)", int(n))
}

// Notification defines notification that is sent to the caller via the
// callback registered with Subscribe and consists of a notification type as
// well as associated data that depends on the type as follows:
//   - NTTxAccepted: *TxDesc
//   - NTTxRemoved:  *chainhash.Hash
type Notification struct {
	Type NotificationType
	Data interface{}
}

// Subscribe registers a callback for pool notifications.  Callbacks run on
// the goroutine that changed the pool, after the change is published, and
// must not block.
func (mp *TxPool) Subscribe(callback NotificationCallback) {
	mp.notificationsLock.Lock()
	mp.notifications = append(mp.notifications, callback)
	mp.notificationsLock.Unlock()
}

func (mp *TxPool) sendNotification(typ NotificationType, data interface{}) {
	// Generate and send the notification.
	n := Notification{Type: typ, Data: data}
	mp.notificationsLock.RLock()
	for _, callback := range mp.notifications {
		callback(&n)
	}
	mp.notificationsLock.RUnlock()
}
