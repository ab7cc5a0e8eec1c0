package enum

type Provider string

const (
	ProviderGmail     Provider = "gmail"
	ProviderMicrosoft Provider = "microsoft"
	ProviderYahoo     Provider = "yahoo"
	ProviderNone      Provider = ""
)

func (t Provider) String() string {
	return string(t)
}

// DecodeProvider maps external spellings onto the canonical provider names.
// "google" arrives from the OAuth callback path, "outlook" from older clients.
func DecodeProvider(s string) (Provider, bool) {
	switch s {
	case "gmail", "google":
		return ProviderGmail, true
	case "microsoft", "outlook":
		return ProviderMicrosoft, true
	case "yahoo":
		return ProviderYahoo, true
	}
	return ProviderNone, false
}

type CredentialKind string

const (
	CredentialOAuth  CredentialKind = "oauth"
	CredentialStatic CredentialKind = "static"
)

func (t CredentialKind) String() string {
	return string(t)
}

type MutationMode string

const (
	MutationTrash   MutationMode = "trash"
	MutationArchive MutationMode = "archive"
)

func (t MutationMode) String() string {
	return string(t)
}

type Tier string

const (
	TierFree     Tier = "free"
	TierPro      Tier = "pro"
	TierPurge    Tier = "purge"
	TierLifetime Tier = "lifetime"
)

func (t Tier) String() string {
	return string(t)
}

// Unlimited reports whether the tier bypasses the monthly trash allowance.
func (t Tier) Unlimited() bool {
	return t == TierPro || t == TierPurge || t == TierLifetime
}
