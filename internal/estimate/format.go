package estimate

import "fmt"

// FormatBytes renders a byte count in the nearest binary unit for logs.
func FormatBytes(n int64) string {
	if n < 0 {
		n = 0
	}
	value := float64(n)
	for _, unit := range []string{"B", "KB", "MB", "GB", "TB", "PB"} {
		if value < 1024.0 || unit == "PB" {
			if unit == "B" {
				return fmt.Sprintf("%d %s", int64(value), unit)
			}
			return fmt.Sprintf("%.2f %s", value, unit)
		}
		value /= 1024.0
	}
	return fmt.Sprintf("%d B", n)
}
