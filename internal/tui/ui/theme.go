package ui

import (
	"fmt"

	"github.com/gdamore/tcell/v2"
)

// Theme holds the monitor's colors.
type Theme struct {
	BgColor           tcell.Color
	FgColor           tcell.Color
	BorderColor       tcell.Color
	TitleColor        tcell.Color
	CounterColor      tcell.Color
	MenuKeyColor      tcell.Color
	OnlineColor       tcell.Color
	OfflineColor      tcell.Color
	SyncingColor      tcell.Color
	TypingColor       tcell.Color
	FlashInfoColor    tcell.Color
	FlashWarnColor    tcell.Color
	FlashErrColor     tcell.Color
	PromptBorderColor tcell.Color
}

// DefaultTheme returns a dark theme.
func DefaultTheme() *Theme {
	return &Theme{
		BgColor:           tcell.ColorBlack,
		FgColor:           tcell.ColorCadetBlue,
		BorderColor:       tcell.ColorDodgerBlue,
		TitleColor:        tcell.ColorFuchsia,
		CounterColor:      tcell.ColorPapayaWhip,
		MenuKeyColor:      tcell.ColorDodgerBlue,
		OnlineColor:       tcell.ColorLimeGreen,
		OfflineColor:      tcell.ColorOrangeRed,
		SyncingColor:      tcell.ColorAqua,
		TypingColor:       tcell.ColorGray,
		FlashInfoColor:    tcell.ColorNavajoWhite,
		FlashWarnColor:    tcell.ColorOrange,
		FlashErrColor:     tcell.ColorOrangeRed,
		PromptBorderColor: tcell.ColorDodgerBlue,
	}
}

// Tag returns c as a tview color tag name.
func Tag(c tcell.Color) string {
	for name, val := range tcell.ColorNames {
		if val == c {
			return name
		}
	}
	return fmt.Sprintf("#%06x", c.Hex())
}
