// Package config provides a function registry and human-readable pipeline configuration.
//
// Register host functions by name, then define pipelines in YAML (or structs)
// whose bodies call those names. The structured form builds the same IR as the
// text syntax and goes through the same validation:
//
//	pipelines:
//	  fetch-user:
//	    try:
//	      while: attempt < 3
//	      body: http.get(url)
//	      with: [fetching user]
//	    retry:
//	      backoff: exponential
//	      initial: 100ms
//	    timeouts:
//	      http.get: 2s
//	    handlers:
//	      - catch: HTTPStatus
//	        bind: e
//	        when: e.status == 404
//	        body: '"not found"'
//
// Build pipelines with BuildPipeline(registry, config, opts) and run them with
// Built.Run. Settings holds the tool settings read from trypipe.toml.
package config
