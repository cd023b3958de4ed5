package internal

// Version is the release of the presence server and watch client.
const Version = "0.3.0"
