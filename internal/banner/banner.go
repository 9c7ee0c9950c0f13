package banner

import (
	"github.com/charmbracelet/lipgloss"

	"loadphase/internal/tui/styles"
)

const ascii = `
    __                 __      __
   / /___  ____ _____/ /___  / /_  ____ _________
  / / __ \/ __ '/ __  / __ \/ __ \/ __ '/ ___/ _ \
 / / /_/ / /_/ / /_/ / /_/ / / / / /_/ (__  )  __/
/_/\____/\__,_/\__,_/ .___/_/ /_/\__,_/____/\___/
                   /_/                            `

// GetString renders the help banner.
func GetString() string {
	style := lipgloss.DefaultRenderer().NewStyle().
		Foreground(styles.ColorBanner).
		Bold(true)
	return "\n" + style.Render(ascii) + "\n"
}
