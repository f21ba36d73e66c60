package bidding

import (
	"time"

	"github.com/neo1415/salvage-management-system-sub002/internal/model"
)

const (
	// ExtensionThreshold: если до конца осталось строго меньше, аукцион продлевается.
	ExtensionThreshold = 5 * time.Minute
	// ExtensionStep задаёт сдвиг времени окончания.
	ExtensionStep = 2 * time.Minute
)

// Extension описывает решение о продлении аукциона.
type Extension struct {
	Extended          bool
	NewEndTime        time.Time
	NewExtensionCount int
	NewStatus         model.AuctionStatus
}

// DecideExtension решает, нужно ли продлить аукцион после принятой ставки.
// Продление считается от текущего EndTime, а не от now. Число продлений не ограничено.
func DecideExtension(a model.Auction, now time.Time) Extension {
	unchanged := Extension{
		NewEndTime:        a.EndTime,
		NewExtensionCount: a.ExtensionCount,
		NewStatus:         a.Status,
	}

	if !a.Status.IsOpen() {
		return unchanged
	}

	if a.EndTime.Sub(now) >= ExtensionThreshold {
		return unchanged
	}

	return Extension{
		Extended:          true,
		NewEndTime:        a.EndTime.Add(ExtensionStep),
		NewExtensionCount: a.ExtensionCount + 1,
		NewStatus:         model.AuctionStatusExtended,
	}
}
