package config

import (
	"net/url"
	"slices"
)

const redacted = "***"

// secretFields lists every credential-bearing field of c.
func secretFields(c *Config) []*string {
	return []*string{
		&c.Wallet.PrivateKey,
		&c.Wallet.KeyPassword,
		&c.Supabase.DSN,
		&c.Supabase.Password,
		&c.Redis.Password,
		&c.S3.AccessKey,
		&c.S3.SecretKey,
		&c.Server.APIKey,
		&c.Notify.TelegramToken,
		&c.Notify.DiscordWebhookURL,
	}
}

// RedactedConfig returns a deep-enough copy of cfg for logging: secrets are
// replaced with "***", the RPC URL keeps only its origin, and slices are
// cloned so the copy cannot alias cfg.
func RedactedConfig(cfg *Config) Config {
	out := *cfg
	for _, s := range secretFields(&out) {
		if *s != "" {
			*s = redacted
		}
	}
	out.Chain.RPCURL = redactURL(cfg.Chain.RPCURL)

	out.Market.Categories = slices.Clone(cfg.Market.Categories)
	out.Access.Admins = slices.Clone(cfg.Access.Admins)
	out.Access.Moderators = slices.Clone(cfg.Access.Moderators)
	out.Access.Operators = slices.Clone(cfg.Access.Operators)
	out.Access.Treasury = slices.Clone(cfg.Access.Treasury)
	out.Chain.ExtraTokens = slices.Clone(cfg.Chain.ExtraTokens)
	out.Server.CORSOrigins = slices.Clone(cfg.Server.CORSOrigins)
	out.Notify.Events = slices.Clone(cfg.Notify.Events)
	return out
}

// redactURL keeps scheme and host of an RPC URL. Provider keys usually sit in
// the path, query or userinfo.
func redactURL(raw string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return redacted
	}
	if u.User == nil && (u.Path == "" || u.Path == "/") && u.RawQuery == "" {
		return u.Scheme + "://" + u.Host
	}
	return u.Scheme + "://" + u.Host + "/" + redacted
}
