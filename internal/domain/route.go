package domain

// Route is a named screen path owned by the router.
type Route string

const (
	RouteHome         Route = "/"
	RouteOnboarding   Route = "/onboarding"
	RouteUserSetup    Route = "/user-setup"
	RouteGenderSelect Route = "/gender-select"
	RouteVideoChat    Route = "/video-chat"
	RouteVoice        Route = "/voice"
	RouteChat         Route = "/chat"
	RoutePersonalChat Route = "/personal-chat"
	RouteFriends      Route = "/friends"
	RouteProfile      Route = "/profile"
	RouteRefer        Route = "/refer"
	RouteReferralCode Route = "/referral-code"
	RouteAIChatbot    Route = "/ai-chatbot"
)

// Screen pairs a route with its display title.
type Screen struct {
	Route Route
	Title string
}

// Screens is the fixed route table, in display order.
var Screens = []Screen{
	{RouteHome, "Home"},
	{RouteOnboarding, "Welcome"},
	{RouteUserSetup, "Set up your profile"},
	{RouteGenderSelect, "Choose your gender"},
	{RouteVideoChat, "Video chat"},
	{RouteVoice, "Voice"},
	{RouteChat, "Chat"},
	{RoutePersonalChat, "Personal chat"},
	{RouteFriends, "Friends"},
	{RouteProfile, "Profile"},
	{RouteRefer, "Refer to unlock"},
	{RouteReferralCode, "Referral code"},
	{RouteAIChatbot, "AI chatbot"},
}

// RouteDecision is the outcome of a bootstrap. Either the client navigates
// to Route replacing its history entry, or it stays on the default screen.
type RouteDecision struct {
	Route    Route
	Navigate bool
	Replace  bool
}

var (
	NavigateToOnboarding = RouteDecision{Route: RouteOnboarding, Navigate: true, Replace: true}
	StayOnDefault        = RouteDecision{Route: RouteHome}
)

// DecideRoute maps a reconciled profile to a routing decision. A nil record
// stands for a failed bootstrap and always routes to onboarding.
func DecideRoute(rec *ProfileRecord) RouteDecision {
	if !rec.IsOnboarded() {
		return NavigateToOnboarding
	}
	return StayOnDefault
}
