package catalog

import "fmt"

// builtinRules is the signature set compiled into the binary. Declaration
// order is significant: earlier rules win over later ones, so the more
// specific patterns sit at the top. There is no catch-all rule; a greeting
// none of these match stays unclassified.
var builtinRules = []SignatureRule{
	{
		ID:           "vsftpd",
		Pattern:      `^220 \(vsFTPd ([0-9.]+)\)`,
		Product:      "vsftpd",
		VersionGroup: 1,
	},
	{
		ID:           "proftpd",
		Pattern:      `^220.*ProFTPD ([0-9.]+)`,
		Product:      "ProFTPD",
		VersionGroup: 1,
	},
	{
		ID:           "proftpd-bare",
		Pattern:      `^220.*ProFTPD`,
		Product:      "ProFTPD",
		VersionGroup: 0,
	},
	{
		ID:           "pureftpd",
		Pattern:      `^220-?-*.*Pure-FTPd`,
		Product:      "Pure-FTPd",
		VersionGroup: 0,
	},
	{
		ID:           "filezilla",
		Pattern:      `^220-?FileZilla Server (?:version )?([0-9][0-9a-zA-Z.-]*)`,
		Product:      "FileZilla Server",
		VersionGroup: 1,
	},
	{
		ID:           "microsoft-ftp",
		Pattern:      `^220.*Microsoft FTP Service`,
		Product:      "Microsoft FTP Service",
		VersionGroup: 0,
	},
	{
		ID:           "wuftpd",
		Pattern:      `^220.*FTP server \(Version wu-([0-9.]+[0-9])`,
		Product:      "WU-FTPD",
		VersionGroup: 1,
	},
	{
		ID:           "servu",
		Pattern:      `^220 Serv-U FTP Server v([0-9.]+)`,
		Product:      "Serv-U",
		VersionGroup: 1,
	},
	{
		ID:           "mikrotik",
		Pattern:      `^220.*FTP server \(MikroTik ([0-9.]+)\)`,
		Product:      "MikroTik",
		VersionGroup: 1,
	},
	{
		ID:           "bftpd",
		Pattern:      `^220 bftpd ([0-9.]+)`,
		Product:      "bftpd",
		VersionGroup: 1,
	},
	{
		ID:           "glftpd",
		Pattern:      `^220 .*\(glFTPd ([0-9.]+)`,
		Product:      "glFTPd",
		VersionGroup: 1,
	},
	{
		ID:           "wing-ftp",
		Pattern:      `^220 Wing FTP Server`,
		Product:      "Wing FTP Server",
		VersionGroup: 0,
	},
}

// Builtin returns the compiled built-in signature catalog. The rule set is
// fixed at build time, so a compilation failure here is a programming error.
func Builtin() *Catalog {
	c, err := Compile(builtinRules)
	if err != nil {
		panic(fmt.Sprintf("catalog: builtin signatures: %v", err))
	}
	return c
}
