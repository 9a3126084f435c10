package priceapi

import (
	"time"

	timeutils "github.com/cepro/energymgr/time_utils"
)

// NetworkFeeEURPerMWh returns the pre-VAT network tariff in EUR/MWh for (provider, pkg) at time t, per the
// tables in spec §4.2. Unknown provider/package combinations return 0.
func NetworkFeeEURPerMWh(provider, pkg string, t time.Time) float64 {
	h := t.Hour()
	weekday := timeutils.IsWeekday(t)
	isNight := h < 7 || h >= 22 || !weekday
	month := t.Month()
	isWinterMonth := month == time.November || month == time.December || month == time.January ||
		month == time.February || month == time.March
	isSummerMonth := month >= time.April && month <= time.September

	switch provider {
	case "elektrilevi":
		switch pkg {
		case "vork1":
			return 77.2
		case "vork2":
			if isNight {
				return 35.1
			}
			return 60.7
		case "vork4":
			if isNight {
				return 21.0
			}
			return 36.9
		case "vork5":
			if isWinterMonth && !weekday && h >= 16 && h < 20 {
				return 47.4
			}
			if isWinterMonth && weekday && ((h >= 9 && h < 12) || (h >= 16 && h < 20)) {
				return 81.8
			}
			if isNight {
				return 30.3
			}
			return 52.9
		}
	case "imatra":
		switch pkg {
		case "partn24":
			return 60.7
		case "partn24pl":
			return 38.6
		case "partn12":
			if isSummerMonth {
				if h < 8 || !weekday {
					return 42.0
				}
				return 72.4
			}
			// winter
			if h < 7 || h >= 23 || !weekday {
				return 42.0
			}
			return 72.4
		case "partn12pl":
			if isSummerMonth {
				if h < 8 || !weekday {
					return 27.1
				}
				return 46.4
			}
			if h < 7 || h >= 23 || !weekday {
				return 27.1
			}
			return 46.4
		}
	case "latvia":
		switch pkg {
		case "pamata1":
			return 39.62
		case "special1":
			return 158.48
		}
	}
	return 0
}

// NetworkFeeEURPerKWh returns the post-VAT network fee in EUR/kWh for the given tariff at time t.
func NetworkFeeEURPerKWh(provider, pkg string, t time.Time) float64 {
	return (NetworkFeeEURPerMWh(provider, pkg, t) / 1000.0) * vatFactor
}
