package motor

// PushAlert returns alerts with a prepended, keeping at most MaxAlerts.
func PushAlert(alerts []Alert, a Alert) []Alert {
	n := min(len(alerts), MaxAlerts-1)
	out := make([]Alert, 0, n+1)
	out = append(out, a)

	return append(out, alerts[:n]...)
}

// RemoveAlerts drops every alert whose message equals msg exactly.
func RemoveAlerts(alerts []Alert, msg string) []Alert {
	out := make([]Alert, 0, len(alerts))
	for _, a := range alerts {
		if a.Message != msg {
			out = append(out, a)
		}
	}

	return out
}

// CopyAlerts returns an independent copy of alerts.
func CopyAlerts(alerts []Alert) []Alert {
	out := make([]Alert, len(alerts))
	copy(out, alerts)

	return out
}
