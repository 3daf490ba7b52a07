package vidrelay

// Version is overridden at build time with -ldflags "-X github.com/gwlsn/vidrelay.Version=..."
var Version = "0.1.0-dev"
