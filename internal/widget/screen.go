package widget

// Screen identifies what the widget currently shows.
type Screen string

const (
	ScreenLoading   Screen = "loading"
	ScreenError     Screen = "error"
	ScreenAuth      Screen = "auth"
	ScreenVoice     Screen = "voice"
	ScreenInbox     Screen = "inbox"
	ScreenSelection Screen = "selection"
	ScreenChat      Screen = "chat"
	ScreenContact   Screen = "contact"
)

var screenTitles = map[Screen]string{
	ScreenLoading:   "Loading",
	ScreenError:     "Error",
	ScreenAuth:      "Auth",
	ScreenVoice:     "Voice",
	ScreenInbox:     "Inbox",
	ScreenSelection: "Selection",
	ScreenChat:      "Chat",
	ScreenContact:   "Contact",
}

// ParseScreen maps an identifier to a Screen.
func ParseScreen(s string) (Screen, bool) {
	sc := Screen(s)
	_, ok := screenTitles[sc]
	return sc, ok
}

func (s Screen) Title() string {
	if t, ok := screenTitles[s]; ok {
		return t
	}
	return string(s)
}
