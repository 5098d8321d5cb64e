// Package protocol decodes the JSON envelopes carried by each transport frame
// into typed commands for the animation scheduler, and encodes commands back
// into envelopes for producers and replay tooling.
//
// Every frame holds one envelope:
//
//	{"type": "<command type>", "data": <type-specific document>}
//
// The producer never announces the network input. Consumers insert
// SyntheticInputLayer ahead of the topology declared by topology_init so that
// input_image_data has somewhere to land. Producers that want a different
// input shape must agree on it out of band (see config input_* keys).
package protocol
