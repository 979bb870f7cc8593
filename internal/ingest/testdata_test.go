package ingest

import (
	"strings"
	"testing"
	"time"

	"github.com/tinytelemetry/runmerge/internal/timestamp"
)

func splitLines(s string) []string {
	return strings.Split(strings.TrimPrefix(s, "\n"), "\n")
}

func testParser(t *testing.T) *timestamp.Parser {
	t.Helper()
	return timestamp.NewParser(timestamp.WithClockOffset(4 * time.Hour))
}

const measReportBlock = `2025-06-01T21:44:26.100000 [RRC     ] [I] ue=0 c-rnti=0x4601: Containerized measurementReport: [
  {
    "UL-DCCH-Message": {"message": {"c1": {"measurementReport": {"criticalExtensions": {"measurementReport": {"measResults": {
      "measId": 1,
      "measResultServingMOList": [
        {"servCellId": 0, "measResultServingCell": {"measResult": {"cellResults": {"resultsSSB-Cell": {"rsrp": 60, "rsrq": 20, "sinr": 10,},},},},},
      ],
    }}}}}}},
  },
]`

const gnbLog = `
2025-06-01T21:44:00.000000 [CONFIG  ] [I] Input configuration (all values):
gnb_id: 411
cell_cfg:
  dl_arfcn: 650000
  band: 78
  pci: [1, 2]
2025-06-01T21:44:00.100000 [GNB     ] [I] Starting gNB
2025-06-01T21:44:26.000010 [METRICS ] [I] Cell Scheduler Metrics: pci=1 nof_ues=1 latency_hist=[1,2]
2025-06-01T21:44:26.000050 [METRICS ] [I] Scheduler UE Metrics: rnti=4601 dl_brate=45.3Mbps events=[{rnti=0x4601 slot=12.3 type=RACH}]
` + measReportBlock + `
2025-06-01T21:44:26.200000 [PHY     ] [D] [  123.4] PUSCH: rnti=0x4601 h_id=0 sinr=10.0dB
    crc=OK sinr=23.1dB

    tbs=1024
2025-06-01T21:44:26.300000 [PHY     ] [D] [  123.5] PUSCH: rnti=0x4601 harq_ack=1
[METRICS ] [I] Cell Scheduler Metrics: pci=1
Radar_Char,prf=100,gain=60
  iperf3 -c 10.45.0.1 -t 60
Radar_Char,prf=200,gain=70
iperf3 -c 10.45.0.1 -t 120 -i 1`

const iperfLog = `
Connecting to host 10.45.0.1, port 5201
[  5] local 10.45.0.2 port 40000 connected to 10.45.0.1 port 5201
[ ID] Interval           Transfer     Bitrate         Retr  Cwnd
[  5]   0.00-1.00   sec  5.50 MBytes  46.1 Mbits/sec    0    512 KBytes
[  5]   1.00-2.00   sec  5.38 MBytes  45.1 Mbits/sec    2    498 KBytes
- - - - - - - - - - - - - - - - - - - - - - - - -
[  5]   0.00-2.00   sec  10.9 MBytes  45.6 Mbits/sec    2             sender
[  5]   0.00-2.00   sec  10.8 MBytes  45.4 Mbits/sec    0    512 KBytes
iperf Done.
RadarStartTime,20250601_174426
RadarStartTime,2025-06-01T17:44:30.500000`
