package torrent

// Version of the client. It is sent to trackers in the user agent and to peers in the extension handshake.
const Version = "0.4.0"

// peerIDPrefix is the Azureus style client prefix of generated peer ids.
const peerIDPrefix = "-SG0040-"
