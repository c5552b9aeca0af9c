package signalr

// ClientVersion is embedded in the default negotiate User-Agent header,
// "SignalR-Client-Go/<version>".
const ClientVersion = "1.0.0"
