package physicalweb

import (
	"math"
	"sort"
)

// invalidRSSI holds the two BLE sentinel values: 127 is MAX, 128 is INVALID
// (§4.5).
var invalidRSSI = map[float64]bool{127: true, 128: true}

// Distance implements the §4.5 proximity model: path_loss = txpower - rssi,
// distance = 10^((path_loss-41)/20). ok is false whenever rssi or txpower is
// absent or rssi is one of the BLE sentinel values.
func Distance(rssi, txpower *float64) (distance float64, ok bool) {
	if rssi == nil || txpower == nil {
		return 0, false
	}
	if invalidRSSI[*rssi] {
		return 0, false
	}
	pathLoss := *txpower - *rssi
	return math.Pow(10, (pathLoss-41)/20), true
}

// RankEntries sorts entries by ascending distance, stable with respect to
// input order for ties, with entries lacking a valid distance sorted last
// (also stable among themselves). It then replaces each entry's distance
// with its reported rank (RankInvalid for entries without one), matching
// §4.5's ReplaceDistanceWithRank step.
func RankEntries(entries []DeviceData) {
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.hasDist != b.hasDist {
			return a.hasDist // valid distances sort before invalid ones
		}
		if !a.hasDist {
			return false // order among invalid entries is unspecified but stable
		}
		return a.distance < b.distance
	})
	for i := range entries {
		if entries[i].hasDist {
			entries[i].Rank = entries[i].distance
		} else {
			entries[i].Rank = RankInvalid
		}
	}
}
