// Package notification keeps the queue of approvals waiting for a user
// decision and hands results back to the blocked requests.
package notification

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/rabby-mobile/provider-core/pkg/types"
)

// Approval components rendered by the UI
const (
	ComponentUnlock                  = "Unlock"
	ComponentConnect                 = "Connect"
	ComponentSignTx                  = "SignTx"
	ComponentSignText                = "SignText"
	ComponentSignTypedData           = "SignTypedData"
	ComponentAddChain                = "AddChain"
	ComponentSwitchChain             = "SwitchChain"
	ComponentAddAsset                = "AddAsset"
	ComponentLedgerHardwareWaiting   = "LedgerHardwareWaiting"
	ComponentQRHardWareWaiting       = "QRHardWareWaiting"
	ComponentKeystoneHardwareWaiting = "KeystoneHardwareWaiting"
	ComponentCommonWaiting           = "CommonWaiting"
	ComponentPrivatePinWaiting       = "PrivatePinWaiting"
)

var stackable = map[string]bool{
	ComponentSignTx:                  true,
	ComponentSignText:                true,
	ComponentSignTypedData:           true,
	ComponentLedgerHardwareWaiting:   true,
	ComponentQRHardWareWaiting:       true,
	ComponentKeystoneHardwareWaiting: true,
	ComponentCommonWaiting:           true,
	ComponentPrivatePinWaiting:       true,
}

// IsStackable reports whether component may queue behind another approval
func IsStackable(component string) bool {
	return stackable[component]
}

// Data describes what the user is asked to approve
type Data struct {
	Params            any             `json:"params,omitempty"`
	Account           *types.Account  `json:"account,omitempty"`
	Origin            string          `json:"origin"`
	ApprovalComponent string          `json:"approvalComponent"`
	ApprovalType      string          `json:"approvalType,omitempty"`
	IsUnshift         bool            `json:"isUnshift,omitempty"`
	Tx                *types.TxParams `json:"tx,omitempty"`
}

// WinProps is a UI sizing hint
type WinProps struct {
	Height int `json:"height,omitempty"`
}

type outcome struct {
	result json.RawMessage
	err    error
}

// Approval is one pending user decision. It settles exactly once.
type Approval struct {
	ID          string    `json:"id"`
	TaskID      string    `json:"taskId,omitempty"`
	SigningTxID string    `json:"signingTxId,omitempty"`
	Data        Data      `json:"data"`
	WinProps    *WinProps `json:"winProps,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`

	once sync.Once
	done chan outcome
}

func (a *Approval) settle(result json.RawMessage, err error) bool {
	settled := false
	a.once.Do(func() {
		a.done <- outcome{result: result, err: err}
		settled = true
	})
	return settled
}

// snapshot copies the exported fields for callers outside the lock
func (a *Approval) snapshot() *Approval {
	return &Approval{
		ID:          a.ID,
		TaskID:      a.TaskID,
		SigningTxID: a.SigningTxID,
		Data:        a.Data,
		WinProps:    a.WinProps,
		CreatedAt:   a.CreatedAt,
	}
}
