// Package platform normalizes chat platforms behind one Adapter interface.
//
// Each adapter verifies webhook signatures (constant-time, before any
// parsing), parses platform payloads into NormalizedMessages, and sends
// outbound messages through a shared resilient HTTP client. Supported
// platforms: telegram, line, messenger. The Registry resolves platform
// discriminators to adapter instances; an unknown name is a configuration
// error.
//
// A malformed webhook payload parses to zero messages, not an error:
// platforms redeliver on non-2xx responses and a payload that cannot be
// parsed will not parse better the second time.
package platform
