package shared

// Version is overridden at link time with -ldflags "-X".
var Version = "0.3.0-dev"
