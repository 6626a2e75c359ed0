/*
Package handleapi is the flat, C-ABI-shaped surface a language binding
sits on top of: pub_create/pub_destroy/pub_send, sub_create/sub_destroy/
sub_receive/sub_set_callback/sub_rem_callback, server_create/
server_destroy/server_add_method_callback/server_rem_method_callback,
and client_create/client_destroy/client_set_hostname/client_call_method/
client_add_response_callback/client_rem_response_callback, each named
here as its Go method (PubCreate, SubReceive, and so on).

Every *_create call returns a Handle: an opaque slot_index/generation
pair from an internal arena, never a pointer. A binding holding a stale
Handle — one whose slot has since been freed and possibly reused by a
later create — gets ferr.NotFound back from every call, instead of
dereferencing whatever now occupies that slot. *_destroy bumps the
slot's generation before anything else, so a concurrent call racing the
destroy sees not_found rather than a half-torn-down component.

Every method returns a plain int result code (a ferr.Code value) rather
than a Go error, since that is what a C-shaped binding can carry across
the boundary; ferr.CodeOf does the translation from whatever the
underlying component actually returned.
*/
package handleapi
