// Package netconf runs the device side of a NETCONF session over caller-owned
// byte streams.
//
// A Communicator owns one reader goroutine that feeds a frame.Decoder,
// resolves pending replies by message-id and reports every outcome to a
// Listener as an Event. Writes go through SendMessage, which registers the
// reply slot, writes the framed payload once and flushes once.
//
// Client layers the hello exchange, message-id allocation and reply
// deadlines on top of a Communicator.
package netconf
