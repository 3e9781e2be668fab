/*
Package config loads the tilepack tool configuration.

	            +-------------+
	            |   Config    |
	            | (Settings)  |
	            +------+------+
	                   |
	     +-------------+-------------+
	     |             |             |
	+----+----+   +----+----+   +----+----+
	|  YAML   |   |  JSON   |   |   HCL   |
	| Parser  |   | Parser  |   | Parser  |
	+---------+   +---------+   +---------+

🎯 Purpose:
  - Reads .tilepack.yaml, .tilepack.yml, .tilepack.json or .tilepack.hcl
  - Rejects unknown fields and invalid values
  - Turns settings into package backend options and external tools

🔄 Priority: built-in defaults, then the config file, then command line flags.
The command layer applies the flags after Load.

🔍 Example:

	log:
	  level: debug
	  file: /var/log/tilepack.log
	http:
	  timeout: 30s
	archive:
	  compression: zstd
	s3:
	  region: eu-central-1
	  endpoint: http://localhost:9000
	  use_path_style: true
	gltfpack:
	  path: /opt/bin/gltfpack
	metrics_file: /var/lib/node_exporter/tilepack.prom

The same file in HCL may read values from the environment:

	s3 {
	  region = env.AWS_REGION
	}
*/
package config
