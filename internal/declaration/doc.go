// Package declaration loads user-authored deployment declarations and
// normalizes them into target specs.
//
// A declaration maps a deploy-set name to networks, and each network to an
// ordered list of contract specs:
//
//	production:
//	  mainnet:
//	    - contract: Registry
//	    - contract: Token
//	      dependsOn: [Registry]
//	      options: [verify, gasLimit=3000000]
//	      process:
//	        path: ./scripts/deploy.sh
//	        before: compile
//	        afterEach: [notify]
//
// Documents may be YAML, JSON or HCL. Loading only decodes documents into
// untyped values; all validation happens in Normalize, which reports the
// exact location of the first offending value.
package declaration
