package dom

import (
	"strconv"
	"strings"
)

// IsVisible applies the snapshot visibility rule: a non-empty box that is
// neither display:none, visibility:hidden nor fully transparent.
func IsVisible(rect Rect, style ComputedStyle) bool {
	if rect.Width <= 0 || rect.Height <= 0 {
		return false
	}
	if strings.EqualFold(strings.TrimSpace(style.Display), "none") {
		return false
	}
	if strings.EqualFold(strings.TrimSpace(style.Visibility), "hidden") {
		return false
	}
	if o := strings.TrimSpace(style.Opacity); o != "" {
		if f, err := strconv.ParseFloat(o, 64); err == nil && f == 0 {
			return false
		}
	}
	return true
}
