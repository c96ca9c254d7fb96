// Command hyperchannels serves and inspects hypermedia references between
// configured streams.
package main

func main() {
	Execute()
}
