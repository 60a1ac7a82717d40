package db

import (
	"context"

	"backend-zachatter/internal/config"

	firebase "firebase.google.com/go/v4"
	"google.golang.org/api/option"
)

var newFirebaseAppFn = firebase.NewApp

// ConnectFirebase initialises the Firebase app behind the Firestore post
// store and the Firebase Storage blob store. Without a credentials file the
// default Google credential chain is used.
func ConnectFirebase(ctx context.Context, cfg config.Config) (*firebase.App, error) {
	var opts []option.ClientOption
	if cfg.FirebaseCredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.FirebaseCredentialsFile))
	}

	var fbCfg *firebase.Config
	if cfg.FirebaseProjectID != "" || cfg.FirebaseStorageBucket != "" {
		fbCfg = &firebase.Config{
			ProjectID:     cfg.FirebaseProjectID,
			StorageBucket: cfg.FirebaseStorageBucket,
		}
	}
	return newFirebaseAppFn(ctx, fbCfg, opts...)
}
