package main

import (
	"fmt"
	"time"

	"github.com/matrix-org/matrix-sync-core/pkg/matrixclient"
)

// consoleUI is the demo harness's UIAdapter: it prints every callback to
// stdout rather than driving a real chat UI.
type consoleUI struct{}

func (consoleUI) RoomCreated(roomID string) {
	fmt.Printf("[room] joined %s\n", roomID)
}

func (consoleUI) RoomStateUpdated(roomID string, diff matrixclient.MemberDiff) {
	for _, m := range diff.New {
		fmt.Printf("[room %s] %s joined\n", roomID, displayOrID(m))
	}
	for _, r := range diff.Renamed {
		fmt.Printf("[room %s] %s is now known as %s\n", roomID, r.OldDisplayName, r.NewDisplayName)
	}
	for _, m := range diff.Left {
		fmt.Printf("[room %s] %s left\n", roomID, displayOrID(m))
	}
}

func (consoleUI) TimelineMessage(roomID, senderDisplay, body string, tsSeconds int64, flags matrixclient.TimelineFlags) {
	ts := time.Unix(tsSeconds, 0).Format("15:04:05")
	fmt.Printf("[%s] %s <%s> %s\n", ts, roomID, senderDisplay, body)
}

func (consoleUI) InviteReceived(invite matrixclient.Invite) {
	fmt.Printf("[invite] %s invited you to %s (%s) — auto-accepting\n", invite.Inviter, invite.RoomName, invite.RoomID)
	invite.Accept()
}

func (consoleUI) Progress(p matrixclient.Progress) {
	if p.Of > 0 {
		fmt.Printf("[progress] %s (%d/%d)\n", p.Phase, p.Step, p.Of)
		return
	}
	fmt.Printf("[progress] %s\n", p.Phase)
}

func (consoleUI) Error(kind matrixclient.ErrorKind, message string) {
	fmt.Printf("[error] %s\n", message)
}

func displayOrID(m matrixclient.MemberInfo) string {
	if m.DisplayName != "" {
		return m.DisplayName
	}
	return m.UserID
}
