package types

// Default cookie lifetimes used when the provider omits expiry fields.
const (
	DefaultAccessExpiresIn  = 86400    // 24 hours
	DefaultRefreshExpiresIn = 31536000 // 365 days
)

// TokenPair represents the tokens issued by a code exchange or a refresh.
// A pair is never merged with a previous one; the next refresh supersedes it.
type TokenPair struct {
	AccessToken      string `json:"access_token"`
	RefreshToken     string `json:"refresh_token"`
	AccessExpiresIn  int    `json:"expires_in"`
	RefreshExpiresIn int    `json:"refresh_expires_in"`
	Scope            string `json:"scope"`
	TokenType        string `json:"token_type"`
}

// AccessMaxAge returns the access cookie lifetime in seconds.
func (t *TokenPair) AccessMaxAge() int {
	if t.AccessExpiresIn > 0 {
		return t.AccessExpiresIn
	}
	return DefaultAccessExpiresIn
}

// RefreshMaxAge returns the refresh cookie lifetime in seconds.
func (t *TokenPair) RefreshMaxAge() int {
	if t.RefreshExpiresIn > 0 {
		return t.RefreshExpiresIn
	}
	return DefaultRefreshExpiresIn
}

// UserProfile represents the TikTok user info returned by /v2/user/info/
type UserProfile struct {
	OpenID          string `json:"open_id"`
	UnionID         string `json:"union_id"`
	AvatarURL       string `json:"avatar_url"`
	AvatarURL100    string `json:"avatar_url_100"`
	AvatarLargeURL  string `json:"avatar_large_url"`
	DisplayName     string `json:"display_name"`
	BioDescription  string `json:"bio_description"`
	ProfileDeepLink string `json:"profile_deep_link"`
	IsVerified      bool   `json:"is_verified"`
	FollowerCount   int64  `json:"follower_count"`
	FollowingCount  int64  `json:"following_count"`
	LikesCount      int64  `json:"likes_count"`
	VideoCount      int64  `json:"video_count"`
}

// ProfileFields is the field selection sent with every user info request.
// It must stay in sync with the json tags of UserProfile.
var ProfileFields = []string{
	"open_id",
	"union_id",
	"avatar_url",
	"avatar_url_100",
	"avatar_large_url",
	"display_name",
	"bio_description",
	"profile_deep_link",
	"is_verified",
	"follower_count",
	"following_count",
	"likes_count",
	"video_count",
}
