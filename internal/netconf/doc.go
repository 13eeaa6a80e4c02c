// Package netconf configures host networking for replication.
//
// A Configurator owns the registry of network devices taking part in
// replication. At oracle init it installs each device by running the
// configured script; at teardown it uninstalls them. On the secondary the
// device's original configuration is removed first with the ifdown script
// and restored last with the ifup script.
//
// Script contract:
//
//	<script> primary|secondary install|uninstall <nicname> <ifname> <index>
package netconf
