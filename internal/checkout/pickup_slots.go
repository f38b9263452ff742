package checkout

import (
	"fmt"
	"time"
)

const PickupDays = 4

type pickupWindow struct {
	startHour int
	endHour   int
}

var pickupWindows = []pickupWindow{
	{9, 11},
	{11, 13},
	{14, 16},
	{16, 18},
	{18, 20},
}

type Slot struct {
	ID    string    `json:"id"`
	Date  time.Time `json:"date"`
	Label string    `json:"label"`
}

// PickupSlots lists every window for days days starting today. Each slot's Date
// is the local midnight of its day.
func PickupSlots(now time.Time, days int) []Slot {
	y, m, d := now.Date()
	today := time.Date(y, m, d, 0, 0, 0, 0, now.Location())

	slots := make([]Slot, 0, days*len(pickupWindows))
	for offset := 0; offset < days; offset++ {
		day := today.AddDate(0, 0, offset)
		for i, w := range pickupWindows {
			slots = append(slots, Slot{
				ID:    fmt.Sprintf("%s-S%d", day.Format("2006-01-02"), i+1),
				Date:  day,
				Label: fmt.Sprintf("%02d:00 - %02d:00", w.startHour, w.endHour),
			})
		}
	}
	return slots
}
