package models

// All lists every persisted model, used for AutoMigrate in local sqlite mode and tests.
func All() []any {
	return []any{
		&User{},
		&Subscription{},
		&UsageRecord{},
		&Insight{},
		&OAuthCredential{},
	}
}
